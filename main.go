// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"

	"github.com/ADORSYS-GIS/DGRV-digital-gap-tool-sub001/entities"
	"github.com/ADORSYS-GIS/DGRV-digital-gap-tool-sub001/examples/offline_flow/simulator"
)

func main() {
	fmt.Println("🚀 DGAT offline sync - offline-first store, outbox and sync engine")
	fmt.Println("==================================================================")
	fmt.Println()
	fmt.Println("Assessment records are written to a local SQLite store first and delivered")
	fmt.Println("to the remote API by a background engine once the device is online.")
	fmt.Println()

	fmt.Println("📦 Synchronized collections:")
	for _, k := range entities.Kinds() {
		fmt.Printf("   %-36s /%s\n", k.Type, k.Collection)
	}
	fmt.Println()

	fmt.Println("📚 Available programs:")
	fmt.Println()
	fmt.Println("1. ⚙️  Sync daemon (cmd/offsyncd/)")
	fmt.Println("   serve, drain, pull, queue and status over one local store")
	fmt.Println("   Run: go run ./cmd/offsyncd serve --remote http://localhost:8080/api/v1")
	fmt.Println()

	fmt.Println("2. 🌐 Remote API (examples/remote_server/)")
	fmt.Println("   Reference REST server: JWT auth, Postgres or in-memory documents")
	fmt.Println("   Run: DATABASE_URL=postgres://... go run ./examples/remote_server")
	fmt.Println()

	fmt.Println("3. 📱 Offline flow simulator (examples/offline_flow/)")
	fmt.Println("   Scenarios:")
	for _, sc := range simulator.Scenarios() {
		fmt.Printf("     - %-18s %s\n", sc.Name, sc.Description)
	}
	fmt.Println("   Run: go run ./examples/offline_flow --embedded")
	fmt.Println()
}
