package services

import (
	"github.com/motionlabs/cswatch/pkg/database"
)

// testClientBundle gives scenario tests raw store access next to the
// services under test.
type testClientBundle struct {
	client *database.Client
}
