package bpmn

// generateKey returns a cluster unique key, the snowflake node id is encoded in the upper bits.
func (engine *Engine) generateKey() int64 {
	return engine.snowflake.Generate().Int64()
}
