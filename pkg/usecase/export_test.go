package usecase

// SourceSeparator is exported for testing
const SourceSeparator = sourceSeparator
