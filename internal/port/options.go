// internal/port/options.go
package port

import (
	"serial-mux/internal/config"
	"serial-mux/internal/model"
)

// RegistryOptionsFromConfig builds handle settings and open defaults from the serial section
func RegistryOptionsFromConfig(cfg *config.SerialConfig) RegistryOptions {
	return RegistryOptions{
		Handle: HandleOptions{
			ChunkSize:      cfg.ChunkSize,
			PacingDelay:    cfg.PacingDelay,
			LineTerminator: cfg.LineTerminator,
			ReadBufferSize: cfg.HighWaterMark,
		},
		SerialDefault: model.SerialOptions{
			BaudRate:      cfg.BaudRate,
			DataBits:      cfg.DataBits,
			StopBits:      cfg.StopBits,
			Parity:        model.Parity(cfg.Parity),
			HighWaterMark: cfg.HighWaterMark,
		},
		ReaderDefault: model.ReaderOptions{
			Delimiter: cfg.Delimiter,
			Encoding:  model.Encoding(cfg.Encoding),
		},
	}
}
