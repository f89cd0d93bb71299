package turn

import "go.opentelemetry.io/otel"

const scopeName = "github.com/ent0n29/voicepipeline/internal/turn"

var tracer = otel.Tracer(scopeName)
