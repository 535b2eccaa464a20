package main

import "os"

// @title EarnHub Backend API
// @version 1.0
// @description API for task rewards, referrals, VIP membership, withdrawals and loans
// @host localhost:8080
// @BasePath /api/v1
// @schemes http https
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
