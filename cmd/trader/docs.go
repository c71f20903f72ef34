package main

//go:generate swag init -g cmd/trader/main.go -o docs

// @title           Swarmtrade API
// @version         0.1.0
// @description     AI trading flows, executions, positions, and settings.
// @host            localhost:8080
// @BasePath        /
// @schemes         http
