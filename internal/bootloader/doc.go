// Package bootloader implements the device side of the G474 serial
// bootloader: the command dispatcher, the erase planner, the record
// decoder and the double-word flash writer.
//
// The package consumes three capabilities: a byte transport
// (transport.Transport), a raw flash controller (flash.Driver) and a
// Device that reports identity and option-byte state. Everything else,
// including the status LED and the jump into the application, is
// optional and supplied through Options.
//
// Basic usage:
//
//	bl, err := bootloader.New(port, mem, dev, flash.STM32G474,
//	    bootloader.WithLogger(logger),
//	)
//	if err != nil {
//	    return err
//	}
//	return bl.Run(ctx)
package bootloader
