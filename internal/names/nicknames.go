package names

// nicknames maps common diminutives to their formal first name.
var nicknames = map[string]string{
	"al":      "albert",
	"andy":    "andrew",
	"drew":    "andrew",
	"barb":    "barbara",
	"ben":     "benjamin",
	"betty":   "elizabeth",
	"beth":    "elizabeth",
	"liz":     "elizabeth",
	"lizzie":  "elizabeth",
	"bill":    "william",
	"billy":   "william",
	"will":    "william",
	"willie":  "william",
	"bob":     "robert",
	"bobby":   "robert",
	"rob":     "robert",
	"robbie":  "robert",
	"chris":   "christopher",
	"chuck":   "charles",
	"charlie": "charles",
	"dan":     "daniel",
	"danny":   "daniel",
	"dave":    "david",
	"debbie":  "deborah",
	"deb":     "deborah",
	"dick":    "richard",
	"rick":    "richard",
	"rich":    "richard",
	"ed":      "edward",
	"eddie":   "edward",
	"ted":     "edward",
	"fred":    "frederick",
	"greg":    "gregory",
	"hank":    "henry",
	"jack":    "john",
	"johnny":  "john",
	"jim":     "james",
	"jimmy":   "james",
	"jen":     "jennifer",
	"jenny":   "jennifer",
	"jerry":   "gerald",
	"joe":     "joseph",
	"joey":    "joseph",
	"kathy":   "katherine",
	"kate":    "katherine",
	"katie":   "katherine",
	"larry":   "lawrence",
	"maggie":  "margaret",
	"peggy":   "margaret",
	"meg":     "margaret",
	"matt":    "matthew",
	"mike":    "michael",
	"mickey":  "michael",
	"nick":    "nicholas",
	"pat":     "patricia",
	"patty":   "patricia",
	"peg":     "margaret",
	"sam":     "samuel",
	"steve":   "steven",
	"sue":     "susan",
	"susie":   "susan",
	"tom":     "thomas",
	"tommy":   "thomas",
	"tony":    "anthony",
	"vicky":   "victoria",
}

// CanonicalFirst resolves a nickname to its formal first name.
func CanonicalFirst(first string) string {
	if formal, ok := nicknames[first]; ok {
		return formal
	}
	return first
}

// NicknameEquivalent reports whether two first names resolve to the same
// formal name through the nickname table.
func NicknameEquivalent(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return CanonicalFirst(a) == CanonicalFirst(b)
}
