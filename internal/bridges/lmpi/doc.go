// Package lmpi implements the LMPI reader protocol for CardPass.
//
// Each physical access-control reader sits behind a small host (typically a
// Raspberry Pi) that speaks a length-prefixed binary protocol over TCP. This
// package owns one such connection per reader and a UDP client for
// site-wide broadcast commands.
//
// # Architecture
//
//	┌──────────────────┐   Update    ┌──────────────────┐   TCP    ┌────────────┐
//	│  connection.     │◄────────────│     Driver       │◄────────►│ reader host│
//	│  Manager         │────────────►│  (this pkg)      │          └────────────┘
//	└──────────────────┘   Send      └──────────────────┘
//	         │
//	         │ emergency / emergency_end / sync
//	         ▼
//	┌──────────────────┐   UDP broadcast
//	│ BroadcastClient  │──────────────────► every host on the subnet
//	└──────────────────┘
//
// # Driver state machine
//
//	Disconnected ─► Connecting ─► TcpConnected ─► ReaderConnected
//	      ▲              │              │                │
//	      └──────────────┴──────────────┴────────────────┘
//	                 socket error / Close / backoff
//
// TcpConnected means the socket is open but the device has not confirmed its
// unique name. While in that state the driver re-sends "connectreader" every
// ConnectReaderInterval until the device answers with a Connected message.
//
// # Wire format
//
// All integers are 4-byte big-endian signed. Inbound strings are
// [int32 length][bytes] with a trailing NUL counted in the length. Outbound
// commands are [int32 length]["<command><param>"] with no terminator.
//
// # Thread Safety
//
// Driver and BroadcastClient are safe for concurrent use. Commands for one
// driver are serialised through a single writer goroutine.
package lmpi
