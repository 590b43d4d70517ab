package container

// Storage backends for the rate limiter.
const (
	StoreMemory   = "memory"
	StoreRedis    = "redis"
	StorePostgres = "postgres"
)

// Event bus backends.
const (
	EventsNone   = "none"
	EventsMemory = "memory"
	EventsRedis  = "redis"
)

// Options is populated by humacli from flags and SERVICE_* environment variables.
type Options struct {
	Port      int    `default:"8888"    help:"Port to listen on"               short:"p"`
	LogFormat string `default:"console" help:"Log format: console or json"`
	LogLevel  string `default:"info"    help:"Log level: debug, info, warn, error"`

	RateLimitStore         string `default:"memory" help:"Rate limit store: memory, redis or postgres"`
	RateLimitMax           int64  `default:"5"      help:"Accepted submissions per client and window"`
	RateLimitWindowSeconds int    `default:"600"    help:"Rate limit window length in seconds"`
	ForwardedIndex         int    `default:"-1"     help:"X-Forwarded-For entry identifying the client, -1 is the nearest proxy hop, negative counts from the right"`
	TrustRealIP            bool   `default:"false"  help:"Use X-Real-IP when X-Forwarded-For has no usable entry"`

	RedisAddr   string `default:"" help:"Redis server address, empty disables Redis" short:"r"`
	DatabaseURL string `default:"" help:"PostgreSQL connection string, empty disables PostgreSQL"`

	SMTPHost     string `default:"smtps.aruba.it"              help:"SMTP relay host"`
	SMTPPort     int    `default:"465"                         help:"SMTP relay port"`
	SMTPUser     string `default:""                            help:"SMTP username"`
	SMTPPass     string `default:""                            help:"SMTP password"`
	SMTPTLSMode  string `default:"ssl"                         help:"SMTP TLS mode: ssl, starttls or none"`
	MailFrom     string `default:"prototipazione@cliquesrl.it" help:"Sender address of forwarded submissions"`
	MailFromName string `default:""                            help:"Sender display name, empty uses the submitter's name"`
	MailTo       string `default:"prototipazione@cliquesrl.it" help:"Comma separated recipients"`
	MailSubject  string `default:"Nuovo progetto dal sito"     help:"Subject of forwarded submissions"`

	MaxBodyBytes  int64  `default:"26214400" help:"Maximum size of a submission in bytes"`
	EventsBackend string `default:"none"     help:"Lead event bus: none, memory or redis"`
}
