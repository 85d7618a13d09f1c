// Command nachos boots the kernel against a disk image and a console
// wired to the process's own stdin/stdout, then blocks until it is asked
// to shut down.
package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/IgnacioCantore/Nachos/internal/config"
	"github.com/IgnacioCantore/Nachos/internal/kernel"
)

func main() {
	cfg := config.Load()

	log.Printf("Nachos kernel starting...")
	log.Printf("Disk image: %s (format if absent: %v)", cfg.DiskPath, cfg.FormatIfAbsent)

	k, err := kernel.Boot(cfg, os.Stdin, os.Stdout)
	if err != nil {
		log.Fatalf("Failed to boot kernel: %v", err)
	}

	log.Printf("Kernel booted successfully")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down kernel...")
	if err := k.Shutdown(); err != nil {
		log.Fatalf("Shutdown: %v", err)
	}
	log.Println("Kernel stopped")
}
