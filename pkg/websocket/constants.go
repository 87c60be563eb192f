package websocket

// WebSocket消息类型常量
const (
	MessageTypePing    = "ping"
	MessageTypePong    = "pong"
	MessageTypeRecords = "records" // 频道记录全量快照
	MessageTypeError   = "error"

	// 默认配置值
	DefaultMaxConnections    = 10000
	DefaultHeartbeatInterval = 30
	DefaultConnectionTimeout = 60
	DefaultMessageBufferSize = 64
	DefaultMessageQueueSize  = 256
	DefaultReadBufferSize    = 1024
	DefaultWriteBufferSize   = 4096
	DefaultMaxMessageSize    = 512

	// 环境变量配置键
	EnvWebSocketMaxConnections      = "WEBSOCKET_MAX_CONNECTIONS"
	EnvWebSocketHeartbeatInterval   = "WEBSOCKET_HEARTBEAT_INTERVAL"
	EnvWebSocketConnectionTimeout   = "WEBSOCKET_CONNECTION_TIMEOUT"
	EnvWebSocketMessageBufferSize   = "WEBSOCKET_MESSAGE_BUFFER_SIZE"
	EnvWebSocketEnableCompression   = "WEBSOCKET_ENABLE_COMPRESSION"
	EnvWebSocketCloseOnBackpressure = "WEBSOCKET_CLOSE_ON_BACKPRESSURE"
	EnvWebSocketSendTimeoutMs       = "WEBSOCKET_SEND_TIMEOUT_MS"

	// 错误消息
	ErrConnectionLimitExceeded = "连接数已达到上限"
	ErrSendBufferFull          = "发送缓冲区已满"
)
