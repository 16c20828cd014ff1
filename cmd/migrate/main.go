package main

import (
	"fmt"
	"log"
	"os"

	"resolvify/internal/config"
	"resolvify/internal/models"
	"resolvify/internal/services"

	"github.com/spf13/viper"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func main() {
	viper.AddConfigPath(".")
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AutomaticEnv()
	_ = viper.ReadInConfig()

	cfg := config.Load()

	dsn := os.Getenv("DB_DSN")
	if dsn == "" {
		dsn = fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=disable TimeZone=UTC",
			cfg.Database.Host, cfg.Database.User, cfg.Database.Password, cfg.Database.Name, cfg.Database.Port)
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Info),
	})
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	log.Println("Starting database migration...")

	err = db.AutoMigrate(
		&models.User{},
		&models.Ticket{},
		&models.AutomationExecution{},
		&models.ApprovalRequest{},
		&models.AutomationPolicy{},
		&models.AuditLog{},
	)
	if err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}

	log.Println("Database migration completed successfully!")

	log.Println("Creating additional indexes...")

	db.Exec("CREATE INDEX IF NOT EXISTS idx_tickets_status_created ON tickets(status, created_at)")
	db.Exec("CREATE INDEX IF NOT EXISTS idx_tickets_category_status ON tickets(category, status)")
	db.Exec("CREATE INDEX IF NOT EXISTS idx_tickets_requester ON tickets(requester_email)")
	db.Exec("CREATE INDEX IF NOT EXISTS idx_executions_ticket_status ON automation_executions(ticket_id, status)")
	db.Exec("CREATE INDEX IF NOT EXISTS idx_approvals_status_requested ON approval_requests(status, requested_at)")
	db.Exec("CREATE INDEX IF NOT EXISTS idx_audit_logs_ticket_ts ON audit_logs(ticket_id, timestamp)")
	db.Exec("CREATE INDEX IF NOT EXISTS idx_audit_logs_action_ts ON audit_logs(action, timestamp)")

	log.Println("Additional indexes created successfully!")

	if len(os.Args) > 1 && os.Args[1] == "--seed" {
		log.Println("Seeding default data...")
		seedDefaultData(db)
		log.Println("Default data seeded successfully!")
	}

	log.Println("Migration process completed!")
}

func seedDefaultData(db *gorm.DB) {
	// 默认管理员；密码务必在首次登录后修改
	var admin models.User
	if err := db.Where("username = ?", "admin").First(&admin).Error; err != nil {
		hashed, hashErr := bcrypt.GenerateFromPassword([]byte("admin123"), bcrypt.DefaultCost)
		if hashErr != nil {
			log.Fatalf("Failed to hash default password: %v", hashErr)
		}
		admin = models.User{
			Username:       "admin",
			Email:          "admin@company.com",
			FullName:       "System Administrator",
			HashedPassword: string(hashed),
			Role:           models.RoleAdmin,
			IsActive:       true,
		}
		db.Create(&admin)
		log.Println("Created default admin user")
	}

	// 默认自动化策略，已存在的按名称跳过
	for _, p := range services.DefaultPolicies() {
		var existing models.AutomationPolicy
		if err := db.Where("name = ?", p.Name).First(&existing).Error; err != nil {
			policy := p
			db.Create(&policy)
			log.Printf("Created default policy: %s", policy.Name)
		}
	}
}
