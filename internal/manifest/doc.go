// Package manifest loads article batches for the ampcache CLI.
//
// A manifest is YAML or TOML, chosen by file extension:
//
//	origin: https://viewer.example
//	mode: viewer
//	params:
//	  - key: prerenderSize
//	    value: "1"
//	articles:
//	  - url: https://www.example.com/news/today
//	    title: Today
package manifest
