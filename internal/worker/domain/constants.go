package domain

// Broker topology shared with the producers and the bot callback consumers
const (
	InputQueue          = "sdqueue"
	ConsumerTag         = "lailaisd"
	PrefetchCount       = 1
	CallbackExchange    = ""
	CallbackRoutingBase = "sd.callback."
	ArtifactContentType = "image/jpeg"
)

// Callback header names
const (
	HeaderSendTo   = "send_to"
	HeaderFromUin  = "from_uin"
	HeaderSendType = "send_type"
)
