package main

import (
	"flag"
	"log"
	"os"

	"github.com/rdwr-taly/flowrunner-cli/api"
	"github.com/rdwr-taly/flowrunner-cli/runtime"
)

func main() {
	configPath := flag.String("config", "", "path to a JSON container config file (optional; config can also be posted to /start)")
	flowPath := flag.String("flow", "", "path to a YAML flow file (optional; flow can also be posted to /start)")
	addr := flag.String("addr", ":8080", "address for the control surface to listen on")
	flag.Parse()

	orch := runtime.NewOrchestrator()

	if *configPath != "" && *flowPath != "" {
		if err := startFromFiles(orch, *configPath, *flowPath); err != nil {
			log.Fatalf("starting from %s/%s: %v", *configPath, *flowPath, err)
		}
		log.Printf("started run from %s / %s with %d user(s)", *configPath, *flowPath, orch.ActiveUserCount())
	}

	g := api.NewHandler(orch)
	log.Printf("control surface listening on %s", *addr)
	if err := g.Run(*addr); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func startFromFiles(orch *runtime.Orchestrator, configPath, flowPath string) error {
	rawConfig, err := runtime.LoadContainerConfigFile(configPath)
	if err != nil {
		return err
	}
	flowYAML, err := os.ReadFile(flowPath)
	if err != nil {
		return err
	}
	return orch.Start(rawConfig, flowYAML)
}
