// Package logger provides slog attribute helpers shared by the bus,
// dispatcher, scheduler, and transport packages.
//
// Helpers use the empty-Attr pattern for nil safety, so call sites never
// need explicit nil checks:
//
//	log.Error("send failed", logger.Error(err), logger.MsgID(cmd.MsgID()))
package logger
