package profiles

// awsReadOnlyActions mirrors the original profile's per-service "describe/
// list/get" verbs across the AWS CLI's most commonly wrapped services.
// Each entry is "{service} {action}".
var awsReadOnlyActions = []string{
	// EC2
	"ec2 describe-instances", "ec2 describe-instance-status", "ec2 describe-images",
	"ec2 describe-volumes", "ec2 describe-snapshots", "ec2 describe-security-groups",
	"ec2 describe-vpcs", "ec2 describe-subnets", "ec2 describe-key-pairs",
	"ec2 describe-tags", "ec2 describe-regions", "ec2 describe-availability-zones",
	// S3
	"s3 ls", "s3 presign",
	// S3API
	"s3api list-buckets", "s3api list-objects", "s3api list-objects-v2",
	"s3api get-object", "s3api head-object", "s3api head-bucket",
	"s3api get-bucket-location", "s3api get-bucket-policy",
	// IAM
	"iam list-users", "iam list-roles", "iam list-policies", "iam list-groups",
	"iam get-user", "iam get-role", "iam get-policy", "iam get-account-summary",
	// STS
	"sts get-caller-identity", "sts decode-authorization-message",
	// RDS
	"rds describe-db-instances", "rds describe-db-clusters", "rds describe-db-snapshots",
	"rds describe-events", "rds list-tags-for-resource",
	// Lambda
	"lambda list-functions", "lambda get-function", "lambda get-function-configuration",
	"lambda list-event-source-mappings", "lambda list-aliases",
	// CloudFormation
	"cloudformation describe-stacks", "cloudformation list-stacks",
	"cloudformation describe-stack-events", "cloudformation describe-stack-resources",
	"cloudformation get-template", "cloudformation list-stack-resources",
	// Route53
	"route53 list-hosted-zones", "route53 list-resource-record-sets",
	"route53 get-hosted-zone", "route53 list-health-checks",
	// CloudWatch
	"cloudwatch describe-alarms", "cloudwatch list-metrics", "cloudwatch get-metric-data",
	"cloudwatch get-metric-statistics",
	// Logs
	"logs describe-log-groups", "logs describe-log-streams", "logs get-log-events",
	"logs filter-log-events",
	// SNS
	"sns list-topics", "sns list-subscriptions", "sns get-topic-attributes",
	// SQS
	"sqs list-queues", "sqs get-queue-attributes", "sqs get-queue-url",
	// DynamoDB
	"dynamodb list-tables", "dynamodb describe-table", "dynamodb scan", "dynamodb query",
	"dynamodb get-item",
	// ECS
	"ecs list-clusters", "ecs describe-clusters", "ecs list-services",
	"ecs describe-services", "ecs list-tasks", "ecs describe-tasks",
	// EKS
	"eks list-clusters", "eks describe-cluster", "eks list-nodegroups",
	"eks describe-nodegroup",
	// ElastiCache
	"elasticache describe-cache-clusters", "elasticache describe-replication-groups",
	// ELB / ELBv2
	"elb describe-load-balancers", "elbv2 describe-load-balancers",
	"elbv2 describe-target-groups", "elbv2 describe-target-health",
	// ECR
	"ecr describe-repositories", "ecr describe-images", "ecr list-images",
	// SecretsManager
	"secretsmanager list-secrets", "secretsmanager describe-secret",
	// SSM
	"ssm describe-instance-information", "ssm get-parameter", "ssm get-parameters",
	"ssm describe-parameters", "ssm list-commands",
}

func init() {
	p := newActionSetProfile("aws", []string{"--output", "json"}, awsReadOnlyActions)
	register(p)
}
