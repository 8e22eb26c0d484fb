package main

import (
	"context"
	"flag"
	"log"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/waitlist-rebooking/internal/db"
	"github.com/hackgods/waitlist-rebooking/internal/rebooking"
)

var preferredWindows = []string{"08:00-12:00", "12:00-17:00", "17:00-20:00", "09:00-15:00"}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	newClients := flag.Int("new-clients", 200, "waitlist_entries rows to insert")
	recalls := flag.Int("recalls", 100, "recall_waitlist rows to insert")
	openSlot := flag.Bool("open-slot", true, "also open one cancelled slot two days out")
	flag.Parse()

	log.Println("seed starting")

	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		log.Fatal("POSTGRES_DSN is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, dsn)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	faker := gofakeit.New(uint64(time.Now().UnixNano()))

	if err := seedNewClients(context.Background(), pool, faker, *newClients); err != nil {
		log.Fatalf("seed waitlist entries: %v", err)
	}
	if err := seedRecalls(context.Background(), pool, faker, *recalls); err != nil {
		log.Fatalf("seed recall waitlist: %v", err)
	}

	if *openSlot {
		lifecycle := rebooking.NewLifecycle(rebooking.NewPgRepository(pool), 72*time.Hour, nil)
		start := time.Now().Add(48 * time.Hour).Truncate(time.Hour)
		offer, _, err := lifecycle.Open(context.Background(), rebooking.OpenParams{
			AppointmentID: uuid.New(),
			StartsAt:      start,
			Duration:      30 * time.Minute,
		})
		if err != nil {
			log.Fatalf("open slot offer: %v", err)
		}
		log.Printf("opened slot offer %s starting %s", offer.ID, offer.StartsAt.Format(time.RFC3339))
	}

	log.Println("seed complete")
}

func seedNewClients(ctx context.Context, pool *pgxpool.Pool, faker *gofakeit.Faker, count int) error {
	log.Printf("seeding %d waitlist entries", count)

	const batchSize = 500

	for offset := 0; offset < count; offset += batchSize {
		end := min(offset+batchSize, count)

		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}

		for i := offset; i < end; i++ {
			email, phone := contact(faker)

			var days []int16
			if faker.Bool() {
				for d := 1; d <= 5; d++ {
					if faker.Bool() {
						days = append(days, int16(d))
					}
				}
			}
			var windows []string
			if faker.Bool() {
				windows = append(windows, preferredWindows[faker.Number(0, len(preferredWindows)-1)])
			}

			_, err := tx.Exec(ctx, `
				INSERT INTO waitlist_entries (id, name, email, phone, priority, preferred_days, preferred_times, status, added_at, updated_at)
				VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), $5, $6, $7, 'waiting', $8, now())
			`, uuid.New(), faker.Name(), email, phone, faker.Number(0, 10), days, windows,
				faker.DateRange(time.Now().AddDate(0, -6, 0), time.Now()))
			if err != nil {
				_ = tx.Rollback(ctx)
				return err
			}
		}

		if err := tx.Commit(ctx); err != nil {
			return err
		}

		log.Printf("waitlist entries seeded: %d/%d", end, count)
	}
	return nil
}

func seedRecalls(ctx context.Context, pool *pgxpool.Pool, faker *gofakeit.Faker, count int) error {
	log.Printf("seeding %d recall entries", count)

	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for i := 0; i < count; i++ {
		email, phone := contact(faker)
		current := faker.DateRange(time.Now().AddDate(0, 0, 7), time.Now().AddDate(0, 3, 0))

		_, err := tx.Exec(ctx, `
			INSERT INTO recall_waitlist (id, patient_name, email, phone, priority, current_appointment_at, move_forward_days, status, created_at, updated_at)
			VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), $5, $6, $7, 'waiting', now(), now())
		`, uuid.New(), faker.Name(), email, phone, faker.Number(0, 10), current, faker.RandomInt([]int{0, 7, 14, 30}))
		if err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	log.Println("recall entries seeded")
	return nil
}

// contact returns an email, a phone number, or both
func contact(faker *gofakeit.Faker) (email, phone string) {
	switch faker.Number(0, 2) {
	case 0:
		return faker.Email(), ""
	case 1:
		return "", "+1555" + faker.DigitN(7)
	default:
		return faker.Email(), "+1555" + faker.DigitN(7)
	}
}
