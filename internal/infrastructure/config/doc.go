// Package config handles loading and validating mqtt-mcp configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Loading a .env file and overriding with environment variables
//   - Validation of required fields
//   - Default value handling
//
// Security Considerations:
//   - Broker passwords and the auth secret should be set via environment variables
//   - The config file should have restricted permissions (0600)
//   - The auth secret must be at least 32 characters when auth is enabled
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.MQTT.Broker.Host)
package config
