package dataaccess

import (
	"strconv"
	"strings"
	"time"
)

// RegisterGameSchemas defines the row-to-entity schemas handlers use
// to shape query results, transcribed from
// _examples/original_source/shared/schemas.py.
func RegisterGameSchemas(r *Registry) {
	r.Define("BasicPlayer", Definition{Fields: map[string]FieldAction{
		"id":        Field{Column: "id"},
		"name":      Field{Column: "name", Default: ""},
		"cfm_roles": Process{Column: "cfm_roles", Default: 0, Fn: toCfmRoles},
		"tfm_roles": Process{Column: "tfm_roles", Default: 0, Fn: toTfmRoles},
	}})
	r.Define("BasicTribe", Definition{Fields: map[string]FieldAction{
		"id":   Field{Column: "id"},
		"name": Field{Column: "name"},
	}})

	r.Define("TribeShamanStats", Definition{Fields: map[string]FieldAction{
		"cheese":        Field{Column: "shaman_cheese", Default: 0},
		"saves_normal":  Field{Column: "saved_mice", Default: 0},
		"saves_hard":    Field{Column: "saved_mice_hard", Default: 0},
		"saves_divine":  Field{Column: "saved_mice_divine", Default: 0},
	}})
	r.Define("ShamanStats", Definition{
		Inherit: "TribeShamanStats",
		Fields: map[string]FieldAction{
			"experience": Field{Column: "experience", Default: 0},
		},
	})
	r.Define("MouseStats", Definition{Fields: map[string]FieldAction{
		"rounds":    Field{Column: "round_played", Default: 0},
		"cheese":    Field{Column: "cheese_gathered", Default: 0},
		"first":     Field{Column: "first", Default: 0},
		"bootcamp":  Field{Column: "bootcamp", Default: 0},
	}})
	r.Define("SurvivorStats", Definition{Fields: map[string]FieldAction{
		"rounds":   Field{Column: "round_played", Default: 0},
		"killed":   Field{Column: "mouse_killed", Default: 0},
		"shaman":   Field{Column: "shaman_count", Default: 0},
		"survivor": Field{Column: "survivor_count", Default: 0},
	}})
	r.Define("RacingStats", Definition{Fields: map[string]FieldAction{
		"rounds":   Field{Column: "round_played", Default: 0},
		"finished": Field{Column: "finished_map", Default: 0},
		"first":    Field{Column: "first", Default: 0},
		"podium":   Field{Column: "podium", Default: 0},
	}})
	r.Define("DefilanteStats", Definition{Fields: map[string]FieldAction{
		"rounds":   Field{Column: "round_played", Default: 0},
		"finished": Field{Column: "finished_map", Default: 0},
		"points":   Field{Column: "points", Default: 0},
	}})
	r.Define("ScoreStats", Definition{Fields: map[string]FieldAction{
		"stats":     Field{Column: "stats", Default: 0},
		"shaman":    Field{Column: "shaman", Default: 0},
		"survivor":  Field{Column: "survivor", Default: 0},
		"racing":    Field{Column: "racing", Default: 0},
		"defilante": Field{Column: "defilante", Default: 0},
		"overall":   Field{Column: "overall", Default: 0},
	}})

	r.Define("AllStats", Definition{Fields: map[string]FieldAction{
		"shaman":    Require{Schema: "ShamanStats"},
		"mouse":     Require{Schema: "MouseStats"},
		"survivor":  Require{Schema: "SurvivorStats", Prefix: "survivor_"},
		"racing":    Require{Schema: "RacingStats", Prefix: "racing_"},
		"defilante": Require{Schema: "DefilanteStats", Prefix: "defilante_"},
		"score":     Require{Schema: "ScoreStats", Prefix: "score_"},
	}})

	r.Define("PlayerProfile", Definition{
		Inherit: "BasicPlayer",
		Fields: map[string]FieldAction{
			"registration": Process{Column: "registration_date", Default: 0, Fn: asRegistrationMonth},
			"title":        Process{Column: "title", Default: 0, Fn: asInt},
			"titles":       Process{Column: "unlocked_titles", Default: "", Fn: asIntList},
			"badges":       Process{Column: "badges", Default: "", Fn: asStringList},

			"tribe":    Require{Schema: "BasicTribe", Prefix: "tribe_"},
			"soulmate": Require{Schema: "BasicPlayer", Prefix: "sm_"},

			"stats": Require{Schema: "AllStats"},

			"disqualified": Field{Column: "disqualified", Default: false},
			"can_qualify":  Field{Column: "can_qualify", Default: false},
		},
	})

	r.Define("TribeMemberCount", Definition{Fields: map[string]FieldAction{
		"total":  Field{Column: "members", Default: 0},
		"active": Field{Column: "active", Default: 0},
	}})
	r.Define("TribeProfile", Definition{
		Inherit: "BasicTribe",
		Fields: map[string]FieldAction{
			"members": Require{Schema: "TribeMemberCount"},
			"stats":   Require{Schema: "AllStats"},
		},
	})
}

func asInt(v any) any {
	switch n := v.(type) {
	case int64:
		return int(n)
	case int:
		return n
	case string:
		i, _ := strconv.Atoi(n)
		return i
	default:
		return 0
	}
}

func asStringList(v any) any {
	s, _ := v.(string)
	if s == "" {
		return []string{}
	}
	return strings.Split(s, ",")
}

func asIntList(v any) any {
	parts := asStringList(v).([]string)
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		if n, err := strconv.Atoi(p); err == nil {
			out = append(out, n)
		}
	}
	return out
}

// asRegistrationMonth mirrors the source's as_date: a millisecond
// epoch timestamp truncated to its "YYYY-MM" registration month.
func asRegistrationMonth(v any) any {
	ms := int64(0)
	switch n := v.(type) {
	case int64:
		ms = n
	case int:
		ms = int64(n)
	}
	if ms == 0 {
		return "1970-01"
	}
	sec := ms / 1000
	return time.Unix(sec, 0).UTC().Format("2006-01")
}
