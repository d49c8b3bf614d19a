/*
Package log provides structured logging for Burrow using zerolog.

The package wraps zerolog behind a small facade: a global logger
initialized once via Init (level, JSON or console output, custom writer),
plus child-logger constructors that stamp the fields used across the
codebase:

	logger := log.WithComponent("indexer")
	logger.Debug().Uint64("operation_id", id).Msg("Catching up")

	log.WithCache("films").Info().Msg("Cache created")
	log.WithIndex("films", "sorted_inverted_0_1").Warn().Msg("Index lagging")
	log.WithEnvironment(path).Error().Err(err).Msg("Open failed")

Embedding applications call Init early; libraries only create child
loggers. With no Init, Logger stays zerolog's zero-value logger, which has
no writer and discards every event; tests run that way.
*/
package log
