package docs

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestVerifyDocStatesNoMatchIs200(t *testing.T) {
	var doc struct {
		Paths map[string]map[string]struct {
			Description string `json:"description"`
		} `json:"paths"`
	}
	if err := json.Unmarshal([]byte(SwaggerInfo.ReadDoc()), &doc); err != nil {
		t.Fatalf("doc is not valid JSON: %v", err)
	}
	desc := doc.Paths["/verify"]["post"].Description
	if !strings.Contains(desc, "it is never 401") {
		t.Fatalf("verify description: %q", desc)
	}
}
