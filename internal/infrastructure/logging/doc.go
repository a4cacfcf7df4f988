// Package logging builds the bridge's slog logger from the logging section
// of config.yaml.
//
// Entries are JSON by default (text with format: text) and always carry
// service and version attributes. With file.path set, output is mirrored to
// a size-rotated file managed by lumberjack:
//
//	logging:
//	  level: info        # debug, info, warn, error
//	  format: json       # json, text
//	  output: stdout     # stdout, stderr, file
//	  file:
//	    path: /var/log/graylogic/projector.log
//	    max_size: 100    # megabytes
//	    max_backups: 3
//	    max_age: 28      # days
//
// The projector session filters its own chatter by verbosity (quiet,
// normal, debug) before it reaches this level check.
package logging
