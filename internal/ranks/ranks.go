package ranks

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strconv"
)

//go:embed ranks.json
var ranksJSON []byte

var names = mustLoad(ranksJSON)

func mustLoad(data []byte) map[int]string {
	var raw map[string]string
	if err := json.Unmarshal(data, &raw); err != nil {
		panic(fmt.Sprintf("ranks: invalid embedded table: %v", err))
	}
	out := make(map[int]string, len(raw))
	for k, v := range raw {
		tier, err := strconv.Atoi(k)
		if err != nil {
			panic(fmt.Sprintf("ranks: invalid tier key %q", k))
		}
		out[tier] = v
	}
	return out
}

func Name(tier int) string {
	if name, ok := names[tier]; ok {
		return name
	}
	return fmt.Sprintf("Unknown (%d)", tier)
}
