package config

var ParseLogLevel = parseLogLevel
