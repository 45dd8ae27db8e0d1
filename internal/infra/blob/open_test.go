package blob

import (
	"context"
	"testing"

	"taskledger/internal/blob/core"
	"taskledger/internal/infra/blob/s3"
)

func TestOpenDrivers(t *testing.T) {
	ctx := context.Background()
	cases := []struct {
		cfg  Config
		want core.Driver
	}{
		{Config{Driver: core.DriverMemory}, core.DriverMemory},
		{Config{FSRoot: t.TempDir()}, core.DriverFilesystem},
		{Config{Driver: core.DriverS3, S3: s3.Config{Bucket: "audit", AccessKeyID: "AKIA", SecretAccessKey: "SECRET"}}, core.DriverS3},
	}
	for _, tc := range cases {
		store, err := Open(ctx, tc.cfg)
		if err != nil {
			t.Fatalf("open %q: %v", tc.cfg.Driver, err)
		}
		if store.Driver() != tc.want {
			t.Fatalf("expected %s, got %s", tc.want, store.Driver())
		}
	}
	if _, err := Open(ctx, Config{Driver: "tape"}); err == nil {
		t.Fatalf("expected unknown driver error")
	}
	if _, err := Open(ctx, Config{Driver: core.DriverS3}); err == nil {
		t.Fatalf("expected missing bucket error")
	}
}
