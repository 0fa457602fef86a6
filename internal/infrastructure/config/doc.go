// Package config handles loading and validating CardPass Core configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with CARDPASS_* environment variables
//   - Validation of required fields (all problems reported together)
//   - Default value handling
//
// Runtime reader settings (retry interval, effective-IP selection) live in
// the database configuration table, not here; the readers section only
// supplies fallbacks and driver tuning.
//
// Security Considerations:
//   - Sensitive values (MQTT password, InfluxDB token) should be set via
//     environment variables
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Site.Name)
package config
