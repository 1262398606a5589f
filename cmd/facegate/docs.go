package main

// General API documentation for swaggo. Run `swag init -g cmd/facegate/docs.go -o docs` to regenerate.
//
// @title           facegate API
// @version         1.0
// @description     Admission-controlled face verification in front of a single comparator.
//
// @contact.name   facegate maintainers
//
// @license.name   MIT
// @license.url    https://opensource.org/licenses/MIT
//
// @BasePath  /
//
// @schemes http
