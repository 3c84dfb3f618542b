package metrics

import "go.opentelemetry.io/otel/attribute"

func sourceAttr(source string) attribute.KeyValue {
	return attribute.String("source", source)
}

func statusAttr(status string) attribute.KeyValue {
	return attribute.String("status", status)
}
