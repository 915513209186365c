// Package config loads the tmplbind YAML configuration.
//
// A configuration names the evaluation service and the owners whose fields
// are kept bound:
//
//	service:
//	  url: tcp://127.0.0.1:8125     # tcp, tls, ws, wss, or "mdns"
//	  request_timeout: 10s
//	  keepalive:
//	    interval: 30s
//	strict: true
//	protocol_log: /var/log/tmplbind.tlog
//	metrics_addr: 127.0.0.1:9125
//	owners:
//	  - id: kitchen-card
//	    fields:
//	      - key: title
//	        value: "{{ states('sensor.kitchen_temperature') }} °C"
//	      - key: greeting
//	        value: "Hello {{ user }}"
//	        variables:
//	          user: Ada
//
// Durations use time.ParseDuration syntax.
package config
