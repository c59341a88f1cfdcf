// Package config loads socketd.yaml, the configuration file of the socketd
// command.
//
// # Configuration File
//
//	server:
//	  schema: ws
//	  port: 8602
//	  idleTimeout: 60s
//	  maxConnections: 10000
//	  http:
//	    path: /socketd
//	    metricsPath: /metrics
//	client:
//	  url: sd:tcp://127.0.0.1:8602/?@=cli
//	  heartbeatInterval: 20s
//	fragment:
//	  size: 524288
//	log:
//	  level: debug
//
// Durations are Go duration strings. Missing fields take the defaults of
// New.
package config
