package handler

const (
	errInternalServer     = "Internal server error"
	errTaskNotFound       = "Task not found"
	errInvalidInterval    = "Invalid interval specification"
	errInvalidCronExpr    = "Invalid cron expression"
	errInvalidCustom      = "Invalid custom schedule"
	errItemNotFound       = "Pipeline item not found"
	errPipelineDisabled   = "Pipeline is disabled"
	errSettingsNotFound   = "Pipeline settings not found"
	errInvalidSettings    = "Invalid pipeline settings"
	errSyncNotFound       = "Sync settings not found"
	errScheduleImpossible = "Schedule has no satisfiable occurrence"
)
