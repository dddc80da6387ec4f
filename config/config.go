package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config enthält alle Infrastruktur-Parameter aus Umgebungsvariablen.
// Redaktionelle Regeln (Aktionen, Schwellenwerte) stehen in der Policy-Datei.
type Config struct {
	DBDriver   string `envconfig:"DB_DRIVER" default:"postgres"`
	DBHost     string `envconfig:"DB_HOST"`
	DBPort     int    `envconfig:"DB_PORT" default:"5432"`
	DBUser     string `envconfig:"DB_USER"`
	DBPassword string `envconfig:"DB_PASSWORD"`
	DBName     string `envconfig:"DB_NAME"`
	SQLitePath string `envconfig:"SQLITE_PATH" default:"journal-desk.db"`

	HTTPPort  string `envconfig:"HTTP_PORT" default:"4242"`
	JWTSecret string `envconfig:"JWT_SECRET"`

	PolicyFile string `envconfig:"POLICY_FILE"`

	// Sweeps (Cron-Ausdrücke)
	InvitationDispatchSchedule string `envconfig:"INVITATION_DISPATCH_SCHEDULE" default:"*/5 * * * *"`
	ReminderSweepSchedule      string `envconfig:"REMINDER_SWEEP_SCHEDULE" default:"0 * * * *"`
	ExpirySweepSchedule        string `envconfig:"EXPIRY_SWEEP_SCHEDULE" default:"*/15 * * * *"`
	PublicationSweepSchedule   string `envconfig:"PUBLICATION_SWEEP_SCHEDULE" default:"0 6 * * *"`

	QualityWorkers      int           `envconfig:"QUALITY_WORKERS" default:"2"`
	QualityPollInterval time.Duration `envconfig:"QUALITY_POLL_INTERVAL" default:"2s"`
	RoleCacheTTL        time.Duration `envconfig:"ROLE_CACHE_TTL" default:"5m"`

	SMTPHost          string `envconfig:"SMTP_HOST"`
	SMTPPort          int    `envconfig:"SMTP_PORT" default:"587"`
	SMTPUser          string `envconfig:"SMTP_USER"`
	SMTPPass          string `envconfig:"SMTP_PASS"`
	SMTPFrom          string `envconfig:"SMTP_FROM"`
	SMTPSkipTLSVerify bool   `envconfig:"SMTP_SKIP_TLS_VERIFY" default:"false"`

	// Archiv für Entscheidungsbriefe (optional)
	LetterS3Key    string `envconfig:"LETTER_S3_KEY"`
	LetterS3Secret string `envconfig:"LETTER_S3_SECRET"`
	LetterS3URL    string `envconfig:"LETTER_S3_URL"`
	LetterS3Region string `envconfig:"LETTER_S3_REGION" default:"eu-central-1"`
	LetterS3Bucket string `envconfig:"LETTER_S3_BUCKET"`

	// Externe Publikationshistorie für die Konfliktprüfung
	EuropePMCEnabled bool   `envconfig:"EUROPEPMC_ENABLED" default:"false"`
	EuropePMCBaseURL string `envconfig:"EUROPEPMC_BASE_URL" default:"https://www.ebi.ac.uk/europepmc/webservices/rest/search"`
	PubMedEnabled    bool   `envconfig:"PUBMED_ENABLED" default:"false"`
	PubMedBaseURL    string `envconfig:"PUBMED_BASE_URL" default:"https://eutils.ncbi.nlm.nih.gov/entrez/eutils"`
	PubMedAPIKey     string `envconfig:"PUBMED_API_KEY"`
	PubMedTool       string `envconfig:"PUBMED_TOOL" default:"journal-desk"`
	PubMedEmail      string `envconfig:"PUBMED_EMAIL"`
	PubMedMaxResults int    `envconfig:"PUBMED_MAX_RESULTS" default:"200"`
}

// DSN gibt den Data Source Name für die PostgreSQL-Verbindung zurück.
func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=disable",
		c.DBHost, c.DBUser, c.DBPassword, c.DBName, c.DBPort)
}

// SMTPConfigured meldet, ob ein Mailversand möglich ist.
func (c *Config) SMTPConfigured() bool {
	return c.SMTPHost != "" && c.SMTPFrom != ""
}

// LetterArchiveConfigured meldet, ob das S3-Briefarchiv aktiv ist.
func (c *Config) LetterArchiveConfigured() bool {
	return c.LetterS3URL != "" && c.LetterS3Bucket != "" && c.LetterS3Key != ""
}

// Validate prüft treiberabhängige Pflichtfelder.
func (c *Config) Validate() error {
	switch c.DBDriver {
	case "postgres":
		if c.DBHost == "" || c.DBUser == "" || c.DBName == "" {
			return fmt.Errorf("postgres requires DB_HOST, DB_USER and DB_NAME")
		}
	case "sqlite":
		if c.SQLitePath == "" {
			return fmt.Errorf("sqlite requires SQLITE_PATH")
		}
	default:
		return fmt.Errorf("unknown DB_DRIVER %q", c.DBDriver)
	}
	if c.QualityWorkers < 1 {
		return fmt.Errorf("QUALITY_WORKERS must be at least 1")
	}
	return nil
}

// Load lädt die Konfiguration aus den Umgebungsvariablen.
func Load() (*Config, error) {
	_ = godotenv.Load()
	var c Config
	if err := envconfig.Process("", &c); err != nil {
		return nil, err
	}
	return &c, c.Validate()
}
