// Package configs embeds the starter configuration template so
// 'myragdb init' works in every distribution of the binary.
package configs

import _ "embed"

// ConfigTemplate is the annotated myragdb.yaml written by
// 'myragdb init'. Values match the hardcoded defaults; the comments
// document the knobs.
//
//go:embed myragdb.example.yaml
var ConfigTemplate string
