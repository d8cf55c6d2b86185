package validate

import (
	"strings"
	"testing"
)

func TestDatabaseName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"simple", "mydb", false},
		{"with underscore", "my_db", false},
		{"with hyphen", "my-db", false},
		{"mixed", "Prod_DB-2024", false},
		{"single letter", "d", false},
		{"max length", "a" + strings.Repeat("b", 62), false},
		{"empty", "", true},
		{"too long", "a" + strings.Repeat("b", 63), true},
		{"leading digit", "1db", true},
		{"leading underscore", "_db", true},
		{"semicolon", "db;DROP TABLE users", true},
		{"pipe", "db|cat", true},
		{"backtick", "db`id`", true},
		{"subshell", "db$(whoami)", true},
		{"space", "my db", true},
		{"quote", `db"x`, true},
		{"dot", "my.db", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := DatabaseName(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("DatabaseName(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
		})
	}
}

func TestContainerName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"simple", "postgres", false},
		{"with dots", "stack.db.1", false},
		{"leading digit", "1db", false},
		{"leading dot", ".hidden", false},
		{"empty", "", true},
		{"semicolon injection", "db; rm -rf /", true},
		{"ampersand", "db&&true", true},
		{"slash", "stack/db", true},
		{"space", "my container", true},
		{"dollar", "db$HOME", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ContainerName(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ContainerName(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
		})
	}
}
