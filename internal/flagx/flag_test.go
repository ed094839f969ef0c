package flagx

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFilterArgs(t *testing.T) {
	serverFlags := []string{"-a", "-d", "-redis", "-policy"}

	tests := []struct {
		name  string
		args  []string
		bools []string
		want  []string
	}{
		{
			name: "separate values",
			args: []string{"-a", ":8080", "-d", "postgres://db/accounts"},
			want: []string{"-a", ":8080", "-d", "postgres://db/accounts"},
		},
		{
			name: "equals form",
			args: []string{"-redis=redis://cache:6379/0", "-policy=disabled"},
			want: []string{"-redis=redis://cache:6379/0", "-policy=disabled"},
		},
		{
			name: "foreign flags and values dropped",
			args: []string{"-c", "account.json", "-a", ":9000", "-config=other.json"},
			want: []string{"-a", ":9000"},
		},
		{
			name: "dash token is not a value",
			args: []string{"-d", "-a", ":8080"},
			want: []string{"-d", "-a", ":8080"},
		},
		{
			name: "trailing flag without value",
			args: []string{"-policy"},
			want: []string{"-policy"},
		},
		{
			name:  "bool flag never takes the next token",
			args:  []string{"-production", "stray", "-a", ":8080"},
			bools: []string{"-production"},
			want:  []string{"-production", "-a", ":8080"},
		},
		{
			name:  "bool flag in equals form",
			args:  []string{"-production=false"},
			bools: []string{"-production"},
			want:  []string{"-production=false"},
		},
		{
			name: "nothing allowed",
			args: []string{"positional", "-x", "1"},
			want: []string{},
		},
		{
			name: "nil args",
			want: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FilterArgs(tt.args, serverFlags, tt.bools...)
			assert.NotNil(t, got)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestJsonConfigFlags(t *testing.T) {
	saved := os.Args
	t.Cleanup(func() { os.Args = saved })

	cases := []struct {
		name string
		args []string
		env  string
		want string
	}{
		{"short flag", []string{"-c", "/etc/account/short.json"}, "", "/etc/account/short.json"},
		{"long flag", []string{"-config=/etc/account/long.json"}, "", "/etc/account/long.json"},
		{"server flags ignored", []string{"-a", ":8080", "-production"}, "", ""},
		{"env fallback", nil, "/etc/account/env.json", "/etc/account/env.json"},
		{"flag beats env", []string{"-c", "/etc/account/flag.json"}, "/etc/account/env.json", "/etc/account/flag.json"},
		{"last flag wins", []string{"-c", "/one.json", "-config", "/two.json"}, "", "/two.json"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv(ConfigEnvVar, tc.env)
			os.Args = append([]string{"account-server"}, tc.args...)
			assert.Equal(t, tc.want, JsonConfigFlags())
		})
	}
}
