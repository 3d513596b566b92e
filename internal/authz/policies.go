package authz

// defaultPolicies grants read to the owner and to any share holder, and
// write to the owner and write share holders.
const defaultPolicies = `
permit(
  principal,
  action == Notes::Action::"read",
  resource
) when {
  resource.owner == principal ||
  resource.readers.contains(principal) ||
  resource.writers.contains(principal)
};

permit(
  principal,
  action == Notes::Action::"write",
  resource
) when {
  resource.owner == principal ||
  resource.writers.contains(principal)
};
`
