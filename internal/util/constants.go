package util

// 模型存储类型
const (
	StorageLocal  = "local"
	StorageMinio  = "minio"
	StorageOSS    = "oss"
	StorageMemory = "memory"
)

// 反馈投递渠道
const (
	ChannelConsole  = "console"
	ChannelSMTP     = "smtp"
	ChannelSendgrid = "sendgrid"
	ChannelInApp    = "inapp"
)
