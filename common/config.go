package common

import (
	"os"

	"github.com/joho/godotenv"
	logger "github.com/kthomas/go-logger"
)

var (
	// Log is the configured logger
	Log *logger.Logger

	// ConsumeNATSStreamingSubscriptions when true causes the internal NATS
	// consumers to subscribe upon package init
	ConsumeNATSStreamingSubscriptions bool

	// DispatchNotifications when true causes settlement and custody events
	// to be published to the configured NATS JetStream instance
	DispatchNotifications bool

	// ListenAddr is the interface and port the API listens on
	ListenAddr string
)

func init() {
	godotenv.Load()

	requireLogger()
	requireFlags()
	requireListener()
}

func requireLogger() {
	lvl := os.Getenv("LOG_LEVEL")
	if lvl == "" {
		lvl = "INFO"
	}

	var endpoint *string
	if os.Getenv("SYSLOG_ENDPOINT") != "" {
		endpt := os.Getenv("SYSLOG_ENDPOINT")
		endpoint = &endpt
	}

	Log = logger.NewLogger("sip", lvl, endpoint)
}

func requireFlags() {
	ConsumeNATSStreamingSubscriptions = os.Getenv("CONSUME_NATS_STREAMING_SUBSCRIPTIONS") == "true"
	DispatchNotifications = os.Getenv("NATS_URL") != ""
}

func requireListener() {
	ListenAddr = os.Getenv("LISTEN_ADDR")
	if ListenAddr == "" {
		port := os.Getenv("PORT")
		if port == "" {
			port = "8080"
		}
		ListenAddr = "0.0.0.0:" + port
	}
}
