// Rulecheck evaluates compliance rules against record files.
//
// Usage:
//
//	# Check records against a rule set and print a risk summary
//	rulecheck validate --rules rules.yaml --data records.json
//
//	# Re-run whenever either file changes
//	rulecheck validate --rules rules.yaml --data records.json --watch
//
//	# Report parse and validation problems per rule
//	rulecheck compile --rules rules.yaml
//
//	# Write the canonical rule set with CEL equivalents
//	rulecheck export --rules rules.yaml --format json
package main

func main() {
	Execute()
}
