package main

import (
	"database/sql"
	"log"
	"os"

	"github.com/alexedwards/argon2id"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, relying on environment variables")
	}

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		log.Fatal("DATABASE_URL is not set")
	}

	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		log.Fatalf("Failed to open DB: %v", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		log.Fatalf("Failed to ping DB: %v", err)
	}

	seedUsers(db)
	seedCatalog(db)

	log.Println("Seeding completed successfully!")
}

func seedUsers(db *sql.DB) {
	adminEmail := envOrDefault("SEED_ADMIN_EMAIL", "admin@example.com")
	adminPassword := envOrDefault("SEED_ADMIN_PASSWORD", "change-me-please")

	hash, err := argon2id.CreateHash(adminPassword, argon2id.DefaultParams)
	if err != nil {
		log.Fatalf("Failed to hash admin password: %v", err)
	}

	_, err = db.Exec(`
		INSERT INTO users (name, email, password_hash, role, active)
		VALUES ('Administrator', $1, $2, 'admin', true)
		ON CONFLICT (email) DO NOTHING`, adminEmail, hash)
	if err != nil {
		log.Fatalf("Failed to seed admin user: %v", err)
	}

	cashierHash, err := argon2id.CreateHash(envOrDefault("SEED_CASHIER_PASSWORD", "change-me-too"), argon2id.DefaultParams)
	if err != nil {
		log.Fatalf("Failed to hash cashier password: %v", err)
	}
	_, err = db.Exec(`
		INSERT INTO users (name, email, password_hash, role, active)
		VALUES ('Front Desk', 'cashier@example.com', $1, 'cashier', true)
		ON CONFLICT (email) DO NOTHING`, cashierHash)
	if err != nil {
		log.Fatalf("Failed to seed cashier user: %v", err)
	}
	log.Printf("Seeded users (admin: %s)", adminEmail)
}

func seedCatalog(db *sql.DB) {
	var drinksID string
	err := db.QueryRow(`
		INSERT INTO categories (name)
		VALUES ('Drinks')
		ON CONFLICT DO NOTHING
		RETURNING id`).Scan(&drinksID)
	if err == sql.ErrNoRows {
		if err := db.QueryRow(`SELECT id FROM categories WHERE name = 'Drinks'`).Scan(&drinksID); err != nil {
			log.Fatalf("Failed to look up Drinks category: %v", err)
		}
	} else if err != nil {
		log.Fatalf("Failed to seed category: %v", err)
	}

	products := []struct {
		name    string
		barcode string
		price   string
		stock   int
	}{
		{"Soda Can 330ml", "4800016641503", "1.25", 120},
		{"Mineral Water 500ml", "4800016641510", "0.80", 200},
		{"Orange Juice 1L", "4800016641527", "3.40", 45},
	}
	for _, p := range products {
		_, err := db.Exec(`
			INSERT INTO products (name, barcode, price, category_id, stock)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (barcode) DO NOTHING`,
			p.name, p.barcode, p.price, drinksID, p.stock)
		if err != nil {
			log.Fatalf("Failed to seed product %s: %v", p.name, err)
		}
	}
	log.Printf("Seeded %d products", len(products))
}

func envOrDefault(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}
