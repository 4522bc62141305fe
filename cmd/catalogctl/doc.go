// Command catalogctl runs maintenance tasks against a catalog database
// while the server is stopped, or alongside it for read-only commands.
//
// Usage:
//
//	catalogctl [--config file] <command>
//
// Commands:
//
//	stats            Print file, tag and location totals.
//	recount          Recompute every tag count and the global counters.
//	export [file]    Write the whole catalog as JSON to file, or stdout.
//	import <file>    Replace the catalog with a JSON snapshot and recount.
//	vacuum           Reclaim unused space in the database file.
//	config generate  Write a config.yaml holding the built-in defaults.
//
// The database location is read the same way the server reads it: from
// database.path in the config file, or CATALOG_DATABASE_PATH.
package main
