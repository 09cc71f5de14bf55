package graph

import _ "embed"

//go:embed interview.yaml
var interviewYAML []byte
