package profiles

// gcloudReadOnlyActions follows the same "{service} {verb}" shape as AWS,
// across gcloud's most commonly wrapped service groups.
var gcloudReadOnlyActions = []string{
	"compute instances", "compute disks", "compute images", "compute networks",
	"compute firewall-rules", "compute zones", "compute regions",
	"container clusters", "container images", "container node-pools",
	"storage ls", "storage du", "storage objects",
	"projects describe", "projects list",
	"iam roles", "iam service-accounts",
	"sql instances", "sql databases", "sql backups",
	"functions describe", "functions list",
	"logging read", "logging logs",
	"monitoring dashboards", "monitoring channels",
}

func init() {
	// gcloud's "{service} {verb} list|describe|get" shape doesn't collapse
	// to a clean 2-token action set the way AWS's does (the read/write verb
	// is the third token, e.g. "compute instances list" vs
	// "compute instances delete"), so read-only membership here is judged
	// at the 2-token service+resource granularity and the harness's
	// write-verb heuristic (internal/cli/readonly) covers the rest.
	p := newActionSetProfile("gcloud", []string{"--format", "json"}, gcloudReadOnlyActions)
	register(p)
}
