package eventflow

// InstrumentationVersion is reported alongside telemetry emitted by the
// otel decorators.
const InstrumentationVersion = "0.1.0"
