package cli

import (
	"context"
	"fmt"
	"os"

	"resolvify/internal/config"
	"resolvify/internal/services"
	"resolvify/pkg/directory"
	"resolvify/pkg/mailer"
	"resolvify/pkg/scriptrun"
	"resolvify/pkg/vpnctl"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// sweepCmd runs the stuck-ticket sweep once and exits.
// Useful when the server is down and tickets are wedged in analyzing.
var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Force long-stuck analyzing tickets to failed",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Load()
		if err := config.InitLogger(cfg); err != nil {
			logrus.Warnf("init logger: %v", err)
		}
		logger := logrus.StandardLogger()

		dsn := os.Getenv("DB_DSN")
		if dsn == "" {
			dsn = fmt.Sprintf(
				"host=%s user=%s password=%s dbname=%s port=%d sslmode=disable TimeZone=UTC",
				cfg.Database.Host, cfg.Database.User, cfg.Database.Password, cfg.Database.Name, cfg.Database.Port,
			)
		}
		db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
		if err != nil {
			return fmt.Errorf("connect database: %w", err)
		}

		orchestrator := buildOrchestrator(db, cfg, logger)
		swept, err := orchestrator.SweepStuck(context.Background())
		if err != nil {
			return err
		}
		fmt.Printf("Swept %d stuck tickets to failed\n", swept)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(sweepCmd)
}

// buildOrchestrator wires the orchestrator without the HTTP stack or job queue.
func buildOrchestrator(db *gorm.DB, cfg *config.Config, logger *logrus.Logger) *services.OrchestratorService {
	dirClient := directory.NewClient(&directory.Config{
		BaseURL:      cfg.Directory.BaseURL,
		TenantID:     cfg.Directory.TenantID,
		ClientID:     cfg.Directory.ClientID,
		ClientSecret: cfg.Directory.ClientSecret,
		Timeout:      cfg.Directory.Timeout,
	}, logger)
	vpnClient := vpnctl.NewClient(&vpnctl.Config{
		APIURL:  cfg.VPN.APIURL,
		APIKey:  cfg.VPN.APIKey,
		Timeout: cfg.VPN.Timeout,
	}, logger)
	mailClient := mailer.New(&mailer.Config{
		SMTPServer: cfg.Email.SMTPServer,
		SMTPPort:   cfg.Email.SMTPPort,
		Username:   cfg.Email.Username,
		Password:   cfg.Email.Password,
		FromName:   cfg.Email.FromName,
	}, logger)
	scriptRunner := scriptrun.New(&scriptrun.Config{
		Enabled:         cfg.Scripts.Enabled,
		InterpreterPath: cfg.Scripts.InterpreterPath,
		ScriptDir:       cfg.Scripts.ScriptDir,
	}, logger)

	audit := services.NewAuditService(db, logger)
	diagnosis := services.NewDiagnosisService(logger)
	policies := services.NewPolicyService(db, cfg.Automation, logger)
	engine := services.NewAutomationEngine(dirClient, vpnClient, mailClient, scriptRunner, cfg.Automation.Timeout, logger)
	return services.NewOrchestratorService(db, cfg.Automation, diagnosis, policies, engine, audit, mailClient, nil, logger)
}
