package command

const (
	JSONOutputFlag = "json"
	ConfigFlag     = "config"
	LogLevelFlag   = "log-level"
	LogFileFlag    = "log-to"
)
