package project

import "strings"

const maxEntities = 5

type keywordSet struct {
	name     string
	keywords []string
}

// appTypes is checked in order; the first type with a matching keyword wins.
var appTypes = []keywordSet{
	{"social", []string{"social", "chat", "messaging", "friends", "posts", "feed"}},
	{"ecommerce", []string{"shop", "store", "buy", "sell", "cart", "payment", "product"}},
	{"productivity", []string{"todo", "task", "note", "calendar", "reminder", "organize"}},
	{"fitness", []string{"fitness", "workout", "exercise", "health", "steps", "calories"}},
	{"finance", []string{"money", "budget", "expense", "bank", "finance", "investment"}},
	{"education", []string{"learn", "course", "study", "quiz", "education", "lesson"}},
	{"entertainment", []string{"game", "music", "video", "movie", "entertainment"}},
	{"utility", []string{"tool", "utility", "calculator", "converter", "helper"}},
}

var featureKeywords = []keywordSet{
	{"authentication", []string{"login", "signup", "auth", "user", "account"}},
	{"database", []string{"save", "store", "data", "database", "persist"}},
	{"api", []string{"api", "server", "backend", "fetch", "request"}},
	{"navigation", []string{"screen", "page", "navigate", "route", "tab"}},
	{"notifications", []string{"notify", "alert", "push", "notification"}},
	{"camera", []string{"camera", "photo", "image", "picture"}},
	{"location", []string{"location", "map", "gps", "address"}},
	{"payment", []string{"pay", "payment", "stripe", "purchase", "buy"}},
	{"social", []string{"share", "social", "facebook", "twitter", "instagram"}},
	{"offline", []string{"offline", "sync", "cache", "local"}},
}

// knownEntities are the data models recognised in a description, in the
// order they are reported.
var knownEntities = []string{
	"user", "profile", "post", "comment", "like", "follow",
	"product", "order", "cart", "payment", "review",
	"task", "project", "note", "reminder", "category",
	"workout", "exercise", "meal", "goal", "progress",
	"transaction", "budget", "expense", "income", "account",
}

// entityColumns are the table columns for entities with a known shape.
// Anything else gets a name and a description.
var entityColumns = map[string][]string{
	"user":    {"email VARCHAR(255) UNIQUE", "name VARCHAR(255) NOT NULL", "avatar_url TEXT", "bio TEXT"},
	"profile": {"email VARCHAR(255) UNIQUE", "name VARCHAR(255) NOT NULL", "avatar_url TEXT", "bio TEXT"},
	"post": {
		"title VARCHAR(255) NOT NULL", "content TEXT",
		"author_id UUID REFERENCES users(id) ON DELETE CASCADE", "published BOOLEAN DEFAULT FALSE",
	},
	"product": {
		"name VARCHAR(255) NOT NULL", "description TEXT", "price DECIMAL(10,2)",
		"image_url TEXT", "category VARCHAR(100)",
	},
	"task": {
		"title VARCHAR(255) NOT NULL", "description TEXT", "completed BOOLEAN DEFAULT FALSE",
		"due_date TIMESTAMP WITH TIME ZONE", "user_id UUID REFERENCES users(id) ON DELETE CASCADE",
	},
}

var defaultColumns = []string{"name VARCHAR(255) NOT NULL", "description TEXT"}

// Analysis is what a project's name and description reveal about the app.
type Analysis struct {
	AppType  string
	Features []string
	Entities []Entity
}

// Has reports whether feature was detected.
func (a Analysis) Has(feature string) bool {
	for _, f := range a.Features {
		if f == feature {
			return true
		}
	}
	return false
}

// Entity is a data model named in the description.
type Entity struct {
	Name    string // Task
	Var     string // task
	Table   string // tasks
	Columns []string
}

// Analyze detects the app type, the features and up to five entities
// mentioned in text. Matching is by case-insensitive substring.
func Analyze(text string) Analysis {
	lower := strings.ToLower(text)
	a := Analysis{AppType: "general"}

	for _, t := range appTypes {
		if containsAny(lower, t.keywords) {
			a.AppType = t.name
			break
		}
	}
	for _, f := range featureKeywords {
		if containsAny(lower, f.keywords) {
			a.Features = append(a.Features, f.name)
		}
	}
	for _, name := range knownEntities {
		if len(a.Entities) == maxEntities {
			break
		}
		if strings.Contains(lower, name) {
			a.Entities = append(a.Entities, newEntity(name))
		}
	}
	return a
}

func newEntity(name string) Entity {
	cols, ok := entityColumns[name]
	if !ok {
		cols = defaultColumns
	}
	return Entity{
		Name:    strings.ToUpper(name[:1]) + name[1:],
		Var:     name,
		Table:   name + "s",
		Columns: cols,
	}
}

func containsAny(s string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}

// designPattern is the screen layout suggested for an app type.
type designPattern struct {
	Navigation string
	Screens    []string
	Components []string
}

var designPatterns = map[string]designPattern{
	"social": {
		Navigation: "Tab navigation with Feed, Profile, Messages and Notifications",
		Screens:    []string{"Feed", "Profile", "Chat", "Notifications", "Settings"},
		Components: []string{"Avatar", "Post Card", "Comment Section", "Like Button", "Follow Button"},
	},
	"ecommerce": {
		Navigation: "Stack navigation with Product Catalog, Cart and Profile",
		Screens:    []string{"Product List", "Product Detail", "Cart", "Checkout", "Profile"},
		Components: []string{"Product Card", "Add to Cart Button", "Price Display", "Rating Stars"},
	},
	"productivity": {
		Navigation: "Tab navigation with Tasks, Calendar and Settings",
		Screens:    []string{"Task List", "Task Detail", "Calendar", "Categories", "Settings"},
		Components: []string{"Task Item", "Checkbox", "Date Picker", "Priority Indicator"},
	},
}

func patternFor(appType string) designPattern {
	if p, ok := designPatterns[appType]; ok {
		return p
	}
	return designPatterns["productivity"]
}
