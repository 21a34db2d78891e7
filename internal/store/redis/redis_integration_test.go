//go:build integration

package redis

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/Copilotuser-cyber/ChatPDT/internal/store"
	"github.com/Copilotuser-cyber/ChatPDT/internal/store/storetest"
)

func TestRedis_Compliance(t *testing.T) {
	addr := storetest.Container(t, "redis:7-alpine", "6379", nil, nil,
		wait.ForLog("Ready to accept connections").WithStartupTimeout(time.Minute))
	storetest.Run(t, func(t *testing.T) store.Backend {
		b, err := Open(context.Background(), "redis://"+addr+"/0", "t-"+uuid.NewString(), zerolog.Nop())
		if err != nil {
			t.Fatalf("open redis: %v", err)
		}
		return b
	})
}
