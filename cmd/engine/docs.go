package main

//go:generate swag init -g cmd/engine/main.go -o docs

// @title           Calc Vault Engine API
// @version         0.1.0
// @description     Recurring swap vaults: lifecycle, triggers, escrow and adjustment multipliers.
// @host            localhost:8080
// @BasePath        /
// @schemes         http
