// Package config loads tapwire configuration.
//
// Application wiring is declared in a directory of CUE files:
//
//	session: orders: {
//		configuration: "engine.yaml"
//		unmatched: ["log", "store"]
//		statement: big: {query: "total > 100", listeners: ["print", "store"]}
//	}
//	wiretap: orderTap: {session: "orders", send_context: false}
//	tap: [{pattern: "order\\..*", wiretap: "orderTap"}]
//	channel: ["order.created"]
//
// Load reports problems as *LoadError values carrying an error code and,
// when CUE can supply one, a source position. Process-level settings
// (database path, logging) come from the environment; see Env.
package config
