package database

import (
	"sort"
)

// Collection names
const (
	Communities     = "communities"
	Channels        = "channels"
	ChannelSecrets  = "channel_secrets"
	Messages        = "messages"
	Proposals       = "proposals"
	Votes           = "votes"
	Jobs            = "jobs"
	JobApplications = "job_applications"
	Classifieds     = "classifieds"
	Alerts          = "alerts"
	Articles        = "articles"
	Transactions    = "transactions"
	Campaigns       = "campaigns"
)

// Schema describes a collection of the records table.
type Schema struct {
	Name   string
	Scoped bool       // records carry a community_id
	Hidden bool       // not reachable through the collections API
	Unique [][]string // unique field sets
	Parent *Parent    // records reachable only through their parent record
	Owner  string     // field holding the id of the author, who alone may change the record
}

// Parent links the records of a collection to the record they belong to.
type Parent struct {
	Collection string
	Key        string // field holding the parent id
}

var schemas = map[string]Schema{
	Communities:     {Name: Communities},
	Channels:        {Name: Channels, Scoped: true},
	ChannelSecrets:  {Name: ChannelSecrets, Hidden: true, Unique: [][]string{{"channel_id"}}},
	Messages:        {Name: Messages, Parent: &Parent{Channels, "channel_id"}, Owner: "user_id"},
	Proposals:       {Name: Proposals, Scoped: true},
	Votes: {Name: Votes, Unique: [][]string{{"proposal_id", "user_id"}},
		Parent: &Parent{Proposals, "proposal_id"}, Owner: "user_id"},
	Jobs:            {Name: Jobs, Scoped: true},
	JobApplications: {Name: JobApplications, Unique: [][]string{{"job_id", "user_id"}},
		Parent: &Parent{Jobs, "job_id"}, Owner: "user_id"},
	Classifieds:     {Name: Classifieds, Scoped: true},
	Alerts:          {Name: Alerts, Scoped: true},
	Articles:        {Name: Articles, Scoped: true},
	Transactions:    {Name: Transactions, Scoped: true},
	Campaigns:       {Name: Campaigns, Scoped: true},
}

// LookupSchema returns the schema of the collection named name.
func LookupSchema(name string) (Schema, bool) {
	s, ok := schemas[name]
	return s, ok
}

// CollectionNames returns the sorted names of every collection.
func CollectionNames() []string {
	names := make([]string, 0, len(schemas))
	for name := range schemas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
