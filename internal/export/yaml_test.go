package export

import (
	"bytes"
	"strings"
	"testing"

	"github.com/iksnae/querychat/internal"
	"gopkg.in/yaml.v3"
)

func TestYAMLExporter_Export(t *testing.T) {
	var buf bytes.Buffer
	exporter := &YAMLExporter{}

	if err := exporter.Export(internal.CreateTestTranscript("chat-1"), &buf); err != nil {
		t.Fatalf("YAMLExporter.Export() error = %v", err)
	}

	output := buf.String()
	for _, want := range []string{"chatId: chat-1", "databaseType: oracle", "status: completed", "status: error", "SELECT ID, NAME FROM CUSTOMERS"} {
		if !strings.Contains(output, want) {
			t.Errorf("Output should contain %q, got:\n%s", want, output)
		}
	}

	var decoded map[string]interface{}
	if err := yaml.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("Output is not valid YAML: %v", err)
	}
	messages, ok := decoded["messages"].([]interface{})
	if !ok || len(messages) != 4 {
		t.Errorf("messages = %v, want 4 entries", decoded["messages"])
	}
}

func TestYAMLExporter_RowsKeepShape(t *testing.T) {
	var buf bytes.Buffer
	if err := (&YAMLExporter{}).Export(internal.CreateTestTranscript("chat-1"), &buf); err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	if strings.Contains(buf.String(), "values:") {
		t.Errorf("rows should be written as plain lists, got:\n%s", buf.String())
	}
}

func TestYAMLExporter_Extension(t *testing.T) {
	exporter := &YAMLExporter{}
	if got := exporter.Extension(); got != "yaml" {
		t.Errorf("YAMLExporter.Extension() = %v, want yaml", got)
	}
}
